package controller

import "encoding/json"

// Command names the controller's dispatcher recognizes, matching
// original_source/Engine/Proto/CommandType.cpp's catalogue. Not every
// name here has a handler: names the core doesn't act on are still
// routed (to OnUnhandledCommand) rather than logged as malformed, per
// SPEC_FULL.md §5's supplemented command catalogue.
const (
	cmdConnectRequest               = "connect_request"
	cmdConnectResponse              = "connect_response"
	cmdDisconnect                   = "disconnect"
	cmdPing                         = "ping"
	cmdChangeServer                 = "change_server"
	cmdContactList                  = "contact_list"
	cmdContactsUpdate               = "contacts_update"
	cmdGroupList                    = "group_list"
	cmdConferencesList              = "conferences_list"
	cmdConferenceUpdateRequest      = "conference_update_request"
	cmdConferenceUpdateResponse     = "conference_update_response"
	cmdConnectToConferenceRequest   = "connect_to_conference_request"
	cmdConnectToConferenceResponse  = "connect_to_conference_response"
	cmdDisconnectFromConference     = "disconnect_from_conference"
	cmdDeviceParams                 = "device_params"
	cmdDeviceConnect                = "device_connect"
	cmdDeviceDisconnect             = "device_disconnect"
	cmdRendererConnect              = "renderer_connect"
	cmdRendererDisconnect           = "renderer_disconnect"
	cmdChangeMemberState            = "change_member_state"
	cmdMemberAction                 = "member_action"
	cmdMicrophoneActive             = "microphone_active"
	cmdScheduleConnect              = "schedule_connect"
	cmdDeliveryMessages             = "delivery_messages"
	cmdLoadMessages                 = "load_messages"
	cmdUserUpdateRequest            = "user_update_request"
	cmdUserUpdateResponse           = "user_update_response"
	cmdCredentialsRequest           = "credentials_request"
	cmdCredentialsResponse          = "credentials_response"
	cmdSearchContact                = "search_contact"
	cmdTurnSpeaker                  = "turn_speaker"
	cmdWantSpeak                    = "want_speak"
	cmdResolutionChange             = "resolution_change"
	cmdUpdateGrants                 = "update_grants"
	cmdSetMaxBitrate                = "set_max_bitrate"
	cmdRequestMediaAddresses        = "request_media_addresses"
	cmdMediaAddressesList           = "media_addresses_list"
)

// knownCommands is every name the dispatcher recognizes, whether or not
// the core has a handler for it — used so an unrecognized wire command
// can still be told apart from one this catalogue simply doesn't act on.
var knownCommands = map[string]bool{
	cmdConnectRequest: true, cmdConnectResponse: true, cmdDisconnect: true,
	cmdPing: true, cmdChangeServer: true, cmdContactList: true,
	cmdContactsUpdate: true, cmdGroupList: true, cmdConferencesList: true,
	cmdConferenceUpdateRequest: true, cmdConferenceUpdateResponse: true,
	cmdConnectToConferenceRequest: true, cmdConnectToConferenceResponse: true,
	cmdDisconnectFromConference: true, cmdDeviceParams: true,
	cmdDeviceConnect: true, cmdDeviceDisconnect: true,
	cmdRendererConnect: true, cmdRendererDisconnect: true,
	cmdChangeMemberState: true, cmdMemberAction: true,
	cmdMicrophoneActive: true, cmdScheduleConnect: true,
	cmdDeliveryMessages: true, cmdLoadMessages: true,
	cmdUserUpdateRequest: true, cmdUserUpdateResponse: true,
	cmdCredentialsRequest: true, cmdCredentialsResponse: true,
	cmdSearchContact: true, cmdTurnSpeaker: true, cmdWantSpeak: true,
	cmdResolutionChange: true, cmdUpdateGrants: true,
	cmdSetMaxBitrate: true, cmdRequestMediaAddresses: true,
	cmdMediaAddressesList: true,
}

// connectRequestBody is the c→s connect_request payload, field-for-field
// against original_source/Engine/Proto/CmdConnectRequest.cpp.
type connectRequestBody struct {
	Type          int    `json:"type"`
	ClientVersion string `json:"client_version"`
	System        string `json:"system"`
	Login         string `json:"login"`
	Password      string `json:"password"`
	AccessToken   string `json:"access_token,omitempty"`
}

// connectResponseBody is the s→c connect_response payload. redirect_url,
// secure_key, and server_name are optional; the rest are required, per
// CmdConnectResponse.cpp.
type connectResponseBody struct {
	Result            int      `json:"result"`
	ServerVersion     string   `json:"server_version"`
	ID                int64    `json:"id"`
	ConnectionID      int64    `json:"connection_id"`
	Name              string   `json:"name"`
	RedirectURL       string   `json:"redirect_url,omitempty"`
	SecureKey         string   `json:"secure_key,omitempty"`
	ServerName        string   `json:"server_name,omitempty"`
	Options           []string `json:"options"`
	Grants            int64    `json:"grants"`
	MaxOutputBitrate  int      `json:"max_output_bitrate"`
	ReducedFrameRate  bool     `json:"reduced_frame_rate,omitempty"`
}

// ConnectResult mirrors CmdConnectResponse.cpp's result enum.
type ConnectResult int

const (
	ConnectOK ConnectResult = iota
	ConnectBadCredentials
	ConnectNoURL
	ConnectConferenceFull
	ConnectLicenseExpired
)

type changeServerBody struct {
	Address string `json:"address"`
	Secure  bool   `json:"secure"`
}

type connectToConferenceRequestBody struct {
	Tag                 string `json:"tag"`
	ConnectMembers      []int64 `json:"connect_members,omitempty"`
	HasCamera           bool   `json:"has_camera"`
	HasMicrophone       bool   `json:"has_microphone"`
	HasDemonstration    bool   `json:"has_demonstration"`
}

type connectToConferenceResponseBody struct {
	Result    int    `json:"result"`
	ID        int64  `json:"id"`
	Grants    int64  `json:"grants"`
	FounderID int64  `json:"founder_id"`
	Tag       string `json:"tag"`
	Name      string `json:"name"`
	Temp      bool   `json:"temp"`
}

// deviceParamsBody is the c→s capturer announcement, field-for-field
// against CmdDeviceParams.cpp.
type deviceParamsBody struct {
	ID         int64  `json:"id"`
	SSRC       uint32 `json:"ssrc"`
	DeviceType string `json:"device_type"`
	Ord        int    `json:"ord"`
	Name       string `json:"name"`
	Metadata   string `json:"metadata,omitempty"`
	Resolution string `json:"resolution,omitempty"`
	ColorSpace string `json:"color_space,omitempty"`
}

// deviceConnectType mirrors CmdDeviceConnect.cpp's connect_type enum.
type deviceConnectType int

const (
	deviceConnectTypeConnect deviceConnectType = iota
	deviceConnectTypeDisconnect
)

// deviceConnectBody is the bidirectional per-peer session bring-up
// message, field-for-field against CmdDeviceConnect.cpp. My is encoded
// as 0/1 rather than a JSON bool, matching the original.
type deviceConnectBody struct {
	ConnectType  deviceConnectType `json:"connect_type"`
	DeviceType   string            `json:"device_type"`
	DeviceID     int64             `json:"device_id"`
	ClientID     int64             `json:"client_id"`
	Metadata     string            `json:"metadata,omitempty"`
	ReceiverSSRC uint32            `json:"receiver_ssrc"`
	AuthorSSRC   uint32            `json:"author_ssrc"`
	Address      string            `json:"address"`
	Port         uint16            `json:"port"`
	Name         string            `json:"name,omitempty"`
	Resolution   string            `json:"resolution,omitempty"`
	ColorSpace   string            `json:"color_space,omitempty"`
	My           zeroOneBool       `json:"my"`
	SecureKey    string            `json:"secure_key,omitempty"`
}

// zeroOneBool marshals as the JSON integers 0/1 instead of false/true,
// matching CmdDeviceConnect.cpp's wire encoding of the "my" field.
type zeroOneBool bool

func (b zeroOneBool) MarshalJSON() ([]byte, error) {
	if b {
		return []byte("1"), nil
	}
	return []byte("0"), nil
}

func (b *zeroOneBool) UnmarshalJSON(data []byte) error {
	var n int
	if err := json.Unmarshal(data, &n); err != nil {
		var bl bool
		if err2 := json.Unmarshal(data, &bl); err2 != nil {
			return err
		}
		*b = zeroOneBool(bl)
		return nil
	}
	*b = n != 0
	return nil
}

type changeMemberStateBody struct {
	Member Member `json:"member"`
}

type microphoneActiveBody struct {
	Active bool `json:"active"`
}

// envelope is the generic "one key names the command" wire shape every
// signalling frame uses.
type envelope map[string]json.RawMessage

func buildEnvelope(name string, body any) ([]byte, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{name: raw})
}
