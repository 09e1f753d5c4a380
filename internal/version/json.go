package version

import "encoding/json"

func marshalCounters(m map[ReplicaID]uint64) ([]byte, error) {
	flat := make(map[string]uint64, len(m))
	for r, c := range m {
		flat[string(r)] = c
	}
	return json.Marshal(flat)
}

func unmarshalCounters(data []byte) (map[ReplicaID]uint64, error) {
	var flat map[string]uint64
	if err := json.Unmarshal(data, &flat); err != nil {
		return nil, err
	}
	m := make(map[ReplicaID]uint64, len(flat))
	for r, c := range flat {
		m[ReplicaID(r)] = c
	}
	return m, nil
}
