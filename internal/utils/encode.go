package utils

import (
	"encoding/base64"
	"encoding/json"
	"net/url"

	"lesson-booking/internal/models"
)

// EncodeSlotSnapshot packs a slot snapshot into a URL-safe opaque parameter:
// base64 of the JSON representation, query-escaped. It rides on the checkout
// success URL so the confirmation page can render slot details without a read.
func EncodeSlotSnapshot(s models.SlotSnapshot) (string, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return "", err
	}
	return url.QueryEscape(base64.StdEncoding.EncodeToString(raw)), nil
}

func DecodeSlotSnapshot(param string) (*models.SlotSnapshot, error) {
	unescaped, err := url.QueryUnescape(param)
	if err != nil {
		return nil, err
	}
	raw, err := base64.StdEncoding.DecodeString(unescaped)
	if err != nil {
		return nil, err
	}
	var s models.SlotSnapshot
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, err
	}
	return &s, nil
}
