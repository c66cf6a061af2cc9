package docstore

import (
	"encoding/json"
	"reflect"
)

// Normalize приводит значение к JSON-типам (map[string]any, []any,
// float64, string, bool, nil), чтобы сравнения не зависели от исходного
// Go-типа. Используется реализациями хранилищ, которые держат документы
// в каноническом JSON.
func Normalize(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ApplyUpdates применяет частичные обновления к каноническому JSON
// документа, включая семантику arrayUnion (без дублей) и arrayRemove
// (удаляет все вхождения).
func ApplyUpdates(raw []byte, updates []Update) ([]byte, error) {
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}

	for _, u := range updates {
		if elems, ok := UnionElems(u.Value); ok {
			arr, _ := doc[u.Field].([]any)
			for _, e := range elems {
				n, err := Normalize(e)
				if err != nil {
					return nil, err
				}
				if !containsValue(arr, n) {
					arr = append(arr, n)
				}
			}
			doc[u.Field] = arr
			continue
		}

		if elems, ok := RemoveElems(u.Value); ok {
			arr, _ := doc[u.Field].([]any)
			for _, e := range elems {
				n, err := Normalize(e)
				if err != nil {
					return nil, err
				}
				arr = removeValue(arr, n)
			}
			doc[u.Field] = arr
			continue
		}

		n, err := Normalize(u.Value)
		if err != nil {
			return nil, err
		}
		doc[u.Field] = n
	}

	return json.Marshal(doc)
}

func containsValue(arr []any, v any) bool {
	for _, e := range arr {
		if reflect.DeepEqual(e, v) {
			return true
		}
	}
	return false
}

func removeValue(arr []any, v any) []any {
	out := make([]any, 0, len(arr))
	for _, e := range arr {
		if !reflect.DeepEqual(e, v) {
			out = append(out, e)
		}
	}
	return out
}
