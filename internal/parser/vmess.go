package parser

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"foxden/internal/storage/models"
	pkgerrors "foxden/pkg/errors"
)

// VMessParser implements Parser for VMess protocol
type VMessParser struct{}

// vmessJSON is the flat key/value payload carried after vmess://
type vmessJSON struct {
	V    string      `json:"v,omitempty"`
	PS   string      `json:"ps"`   // Display name
	Add  string      `json:"add"`  // Address
	Port interface{} `json:"port"` // Port (string or number in the wild)
	ID   string      `json:"id"`   // UUID
	AID  interface{} `json:"aid"`  // AlterID (string or number)
	Scy  string      `json:"scy"`  // Cipher
	Net  string      `json:"net"`  // Network type
	Path string      `json:"path"` // Transport path
	Host string      `json:"host"` // Host header
	TLS  string      `json:"tls"`
}

func (p *VMessParser) Protocol() string {
	return "vmess"
}

func (p *VMessParser) Parse(uri string) (*models.Descriptor, error) {
	// VMess URI format: vmess://base64encodedJSON
	if !strings.HasPrefix(uri, "vmess://") {
		return nil, malformed(uri, "missing vmess:// prefix")
	}

	decoded, err := decodeBase64(strings.TrimPrefix(uri, "vmess://"))
	if err != nil {
		return nil, &pkgerrors.ParseError{URI: uri, Err: err}
	}

	var v vmessJSON
	if err := json.Unmarshal(decoded, &v); err != nil {
		return nil, malformed(uri, "invalid payload: %v", err)
	}

	port, err := coerceInt(v.Port)
	if err != nil {
		return nil, malformed(uri, "invalid port: %v", err)
	}
	if port < 1 || port > 65535 {
		return nil, malformed(uri, "invalid port %d", port)
	}

	if v.Add == "" {
		return nil, malformed(uri, "address is required")
	}
	if v.ID == "" {
		return nil, malformed(uri, "user id is required")
	}

	alterID := 0
	if v.AID != nil {
		alterID, err = coerceInt(v.AID)
		if err != nil {
			return nil, malformed(uri, "invalid alterId: %v", err)
		}
	}

	network := v.Net
	if network == "" {
		network = "tcp"
	}

	d := models.NewDescriptor(models.KindVMess)
	d.Name = v.PS
	if d.Name == "" {
		d.Name = "VMess"
	}
	d.Host = v.Add
	d.Port = port
	d.VMess = &models.VMessSettings{
		UUID:     v.ID,
		AlterID:  alterID,
		Security: v.Scy,
		Network:  network,
		Path:     v.Path,
		Host:     v.Host,
		TLS:      v.TLS == "tls",
	}

	return d, nil
}

func (p *VMessParser) Encode(d *models.Descriptor) (string, error) {
	if d.VMess == nil {
		return "", pkgerrors.ErrDescriptorInvalid
	}

	v := vmessJSON{
		V:    "2",
		PS:   d.Name,
		Add:  d.Host,
		Port: d.Port,
		ID:   d.VMess.UUID,
		AID:  d.VMess.AlterID,
		Scy:  d.VMess.Security,
		Net:  d.VMess.Network,
		Path: d.VMess.Path,
		Host: d.VMess.Host,
	}
	if d.VMess.TLS {
		v.TLS = "tls"
	}

	payload, err := json.Marshal(v)
	if err != nil {
		return "", err
	}

	return "vmess://" + base64.RawURLEncoding.EncodeToString(payload), nil
}

// coerceInt accepts the string-or-number fields VMess payloads carry.
func coerceInt(value interface{}) (int, error) {
	switch v := value.(type) {
	case int:
		return v, nil
	case float64:
		return int(v), nil
	case string:
		if v == "" {
			return 0, nil
		}
		return strconv.Atoi(v)
	default:
		return 0, fmt.Errorf("unsupported type %T", value)
	}
}
