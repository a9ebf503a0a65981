package sfo

import "encoding/json"

type jsonParam struct {
	Key       string `json:"key"`
	Value     string `json:"value"`
	Format    string `json:"format"`
	Length    uint32 `json:"length"`
	MaxLength uint32 `json:"max_length"`
}

// MarshalJSON dumps the header, index table and decoded params
func (s *SFO) MarshalJSON() ([]byte, error) {
	params := make([]jsonParam, 0, len(s.Params))
	for _, p := range s.Params {
		params = append(params, jsonParam{
			Key:       p.Key,
			Value:     p.String(),
			Format:    p.index.Format.String(),
			Length:    p.index.Length,
			MaxLength: p.index.MaxLength,
		})
	}
	return json.Marshal(&struct {
		Header     Header       `json:"header"`
		IndexTable []IndexEntry `json:"index_table"`
		Params     []jsonParam  `json:"params"`
	}{
		Header:     s.Header,
		IndexTable: s.Index,
		Params:     params,
	})
}
