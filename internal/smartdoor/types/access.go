package types

type PasscodeAccessRequest struct {
	Code string `json:"code"`
}

type FaceAccessRequest struct {
	Embedding []float32 `json:"embedding"`
}

type AccessResponse struct {
	OK         bool     `json:"ok"`
	Granted    bool     `json:"granted"`
	Method     Method   `json:"method"`
	Reason     string   `json:"reason,omitempty"`
	Confidence *float64 `json:"confidence,omitempty"`
	AttemptID  string   `json:"attempt_id,omitempty"`

	// DoorFault is set when access was granted but the controller did not
	// acknowledge the unlock.
	DoorFault  string `json:"door_fault,omitempty"`
	ServerTime string `json:"server_time"`
}

type DoorStateResponse struct {
	State      DoorState `json:"state"`
	ServerTime string    `json:"server_time"`
}

type CreatePasscodeRequest struct {
	Code       string `json:"code"`
	TTLMinutes *int   `json:"ttl_minutes,omitempty"`
	OneTime    bool   `json:"one_time,omitempty"`
}

type PasscodeResponse struct {
	ID         string `json:"id"`
	Masked     string `json:"masked"`
	Main       bool   `json:"main"`
	OneTime    bool   `json:"one_time"`
	ValidUntil string `json:"valid_until,omitempty"`
	CreatedAt  string `json:"created_at"`
}

type GuestCodeView struct {
	ID        string `json:"id" yaml:"id"`
	Masked    string `json:"masked" yaml:"masked"`
	OneTime   bool   `json:"one_time" yaml:"one_time"`
	RemainSec int64  `json:"remain_s" yaml:"remain_s"`
}

type AccessLogEntry struct {
	ID             string   `json:"id"`
	Method         Method   `json:"method"`
	Result         Result   `json:"result"`
	Reason         string   `json:"reason,omitempty"`
	PasscodeMasked string   `json:"passcode_masked,omitempty"`
	Confidence     *float64 `json:"confidence,omitempty"`
	Timestamp      string   `json:"timestamp"`
}
