package control

type AddServiceRequest struct {
	UUID            string            `json:"uuid"`
	Characteristics map[string][]byte `json:"characteristics,omitempty"`
}

type RemoveServiceRequest struct {
	UUID string `json:"uuid"`
}

type CountResponse struct {
	Count int `json:"count"`
}

type WriteRequest struct {
	Data []byte `json:"data"`
}

type RotateRequest struct {
	Seconds float64 `json:"seconds"`
}

type ScanRequest struct {
	UUIDs []string `json:"uuids,omitempty"`
	Base  string   `json:"base,omitempty"`
	Mask  string   `json:"mask,omitempty"`
}

type ReceivedMessage struct {
	Data []byte `json:"data"`
}
