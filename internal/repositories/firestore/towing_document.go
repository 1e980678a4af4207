package firestore

import (
	"encoding/json"
	"fmt"

	"github.com/kbkonsulting/Safe2Tow/internal/domain"
)

// towingInfoToMap stores a result under the same camelCase keys the API returns.
func towingInfoToMap(info *domain.TowingInfo) (map[string]any, error) {
	if info == nil {
		return nil, nil
	}
	data, err := json.Marshal(info)
	if err != nil {
		return nil, fmt.Errorf("encode towing info: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("encode towing info: %w", err)
	}
	return out, nil
}

func towingInfoFromMap(raw map[string]any) (*domain.TowingInfo, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("decode towing info: %w", err)
	}
	var info domain.TowingInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("decode towing info: %w", err)
	}
	return &info, nil
}
