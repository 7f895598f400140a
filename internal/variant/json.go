package variant

import "encoding/json"

func marshalBase64JSON(b []byte) ([]byte, error) {
	return json.Marshal(b) // []byte marshals as a base64 JSON string
}

func unmarshalBase64JSON(data []byte) ([]byte, error) {
	var b []byte
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, err
	}
	return b, nil
}
