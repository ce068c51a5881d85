package state

import (
	"encoding/json"
	"fmt"
)

func encodeRecord(rec *GuildRecord) ([]byte, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encoding guild record: %w", err)
	}
	return data, nil
}

func decodeRecord(data []byte) (*GuildRecord, error) {
	var rec GuildRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decoding guild record: %w", err)
	}
	rec.ensure()
	return &rec, nil
}
