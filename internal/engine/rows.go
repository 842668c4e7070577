package engine

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/twpayne/go-geom/encoding/geojson"
	"github.com/twpayne/go-geom/encoding/wkb"
)

// RowsToJSON converts pgx rows into JSON-serializable maps, consolidating
// the teacher's several near-identical copies of pgxRowsToJSON (rest_query,
// rest_handler, rest_crud, rest_utils, rest_batch) into the one canonical
// implementation C7 builds responses from.
func RowsToJSON(rows pgx.Rows) ([]map[string]interface{}, error) {
	fields := rows.FieldDescriptions()
	results := []map[string]interface{}{}

	for rows.Next() {
		values := make([]interface{}, len(fields))
		valuePtrs := make([]interface{}, len(fields))
		for i := range values {
			valuePtrs[i] = &values[i]
		}
		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, err
		}

		row := make(map[string]interface{}, len(fields))
		for i, field := range fields {
			row[string(field.Name)] = decodeValue(values[i])
		}
		results = append(results, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

// decodeValue normalizes one scanned column value: PostGIS WKB to GeoJSON,
// opaque bytes to JSON or string, raw UUID bytes to their string form.
func decodeValue(v interface{}) interface{} {
	switch val := v.(type) {
	case []byte:
		if geom, err := wkb.Unmarshal(val); err == nil {
			if geoJSON, err := geojson.Marshal(geom); err == nil {
				var data interface{}
				if err := json.Unmarshal(geoJSON, &data); err == nil {
					return data
				}
			}
		}
		var jsonData interface{}
		if err := json.Unmarshal(val, &jsonData); err == nil {
			return jsonData
		}
		return string(val)
	case [16]byte:
		if uid, err := uuid.FromBytes(val[:]); err == nil {
			return uid.String()
		}
		return val
	default:
		return val
	}
}
