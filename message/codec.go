package message

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/telebroad/twinftp/fault"
)

// ErrMalformed is returned for frames or payloads that cannot be decoded.
// It is always wrapped as a protocol fault.
var ErrMalformed = errors.New("malformed message")

// wire keys
const (
	keyName       = "name"
	keyPass       = "pass"
	keyStatus     = "status"
	keyMode       = "mode"
	keyEncrypted  = "encrypted"
	keyPort       = "port"
	keyKey        = "key"
	keyIV         = "iv"
	keyCd         = "cd"
	keyLs         = "ls"
	keyGet        = "get"
	keyPut        = "put"
	keyIsTextMode = "is_text_mode"
	keyExit       = "exit"
	keyErr        = "ERR"
)

// secondary keys ride along with exactly one intent key
var secondary = map[string]string{
	keyPass:       keyName,
	keyIsTextMode: keyPut,
	keyEncrypted:  keyMode,
}

// Encode serializes m into its JSON wire form.
func Encode(m Message) ([]byte, error) {
	var obj map[string]any
	switch m := m.(type) {
	case Auth:
		obj = map[string]any{keyName: m.Name, keyPass: m.Pass}
	case Status:
		obj = map[string]any{keyStatus: m.Status}
	case Mode:
		obj = map[string]any{keyMode: m.Mode}
		if m.Encrypted {
			obj[keyEncrypted] = true
		}
	case Port:
		obj = map[string]any{keyPort: m.Port}
	case Key:
		obj = map[string]any{keyKey: m.Key}
	case IV:
		obj = map[string]any{keyIV: m.IV}
	case Cd:
		obj = map[string]any{keyCd: m.Path}
	case Ls:
		obj = map[string]any{keyLs: m.Arg}
	case Get:
		obj = map[string]any{keyGet: m.Arg}
	case Put:
		obj = map[string]any{keyPut: m.Path, keyIsTextMode: m.TextMode}
	case PutReady:
		obj = map[string]any{keyPut: Ready}
	case PutReply:
		obj = map[string]any{keyPut: []string{m.Status, m.Info}}
	case Exit:
		obj = map[string]any{keyExit: ""}
	case Error:
		obj = map[string]any{keyErr: m.Reason}
	default:
		return nil, fmt.Errorf("cannot encode message of type %T", m)
	}
	return json.Marshal(obj)
}

// Decode parses a JSON payload produced by Encode.
func Decode(b []byte) (Message, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(b, &fields); err != nil {
		return nil, malformed("invalid payload: %v", err)
	}

	if raw, ok := fields[keyErr]; ok {
		var reason string
		if err := json.Unmarshal(raw, &reason); err != nil {
			reason = string(raw)
		}
		return Error{Reason: reason}, nil
	}

	var intent string
	for k := range fields {
		if _, ok := secondary[k]; ok {
			continue
		}
		if intent != "" {
			return nil, malformed("more than one intent key: %q and %q", intent, k)
		}
		intent = k
	}
	if intent == "" {
		return nil, malformed("no intent key")
	}
	for k := range fields {
		if owner, ok := secondary[k]; ok && owner != intent {
			return nil, malformed("key %q not allowed with %q", k, intent)
		}
	}

	switch intent {
	case keyName:
		var m Auth
		if err := unmarshal(fields, keyName, &m.Name); err != nil {
			return nil, err
		}
		if err := unmarshal(fields, keyPass, &m.Pass); err != nil {
			return nil, err
		}
		return m, nil
	case keyStatus:
		var m Status
		if err := unmarshal(fields, keyStatus, &m.Status); err != nil {
			return nil, err
		}
		return m, nil
	case keyMode:
		var m Mode
		if err := unmarshal(fields, keyMode, &m.Mode); err != nil {
			return nil, err
		}
		if _, ok := fields[keyEncrypted]; ok {
			if err := unmarshal(fields, keyEncrypted, &m.Encrypted); err != nil {
				return nil, err
			}
		}
		return m, nil
	case keyPort:
		var m Port
		if err := unmarshal(fields, keyPort, &m.Port); err != nil {
			return nil, err
		}
		return m, nil
	case keyKey:
		var m Key
		if err := unmarshal(fields, keyKey, &m.Key); err != nil {
			return nil, err
		}
		return m, nil
	case keyIV:
		var m IV
		if err := unmarshal(fields, keyIV, &m.IV); err != nil {
			return nil, err
		}
		return m, nil
	case keyCd:
		var m Cd
		if err := unmarshal(fields, keyCd, &m.Path); err != nil {
			return nil, err
		}
		return m, nil
	case keyLs:
		var m Ls
		if err := unmarshal(fields, keyLs, &m.Arg); err != nil {
			return nil, err
		}
		return m, nil
	case keyGet:
		var m Get
		if err := unmarshal(fields, keyGet, &m.Arg); err != nil {
			return nil, err
		}
		return m, nil
	case keyPut:
		return decodePut(fields)
	case keyExit:
		return Exit{}, nil
	}
	return nil, malformed("unknown key %q", intent)
}

// decodePut tells the three put shapes apart: a request always carries
// is_text_mode, the reply is a two element list and the cue is the bare "ready".
func decodePut(fields map[string]json.RawMessage) (Message, error) {
	raw := fields[keyPut]
	var list []string
	if json.Unmarshal(raw, &list) == nil {
		if len(list) != 2 {
			return nil, malformed("put reply needs 2 elements, got %d", len(list))
		}
		return PutReply{Status: list[0], Info: list[1]}, nil
	}

	var path string
	if err := unmarshal(fields, keyPut, &path); err != nil {
		return nil, err
	}
	if _, ok := fields[keyIsTextMode]; !ok {
		if path != Ready {
			return nil, malformed("put request without %s", keyIsTextMode)
		}
		return PutReady{}, nil
	}
	m := Put{Path: path}
	if err := unmarshal(fields, keyIsTextMode, &m.TextMode); err != nil {
		return nil, err
	}
	return m, nil
}

func unmarshal(fields map[string]json.RawMessage, key string, v any) error {
	raw, ok := fields[key]
	if !ok {
		return malformed("missing key %q", key)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return malformed("key %q: %v", key, err)
	}
	return nil
}

func malformed(format string, args ...any) error {
	return fault.Protocol(fmt.Errorf("%w: %s", ErrMalformed, fmt.Sprintf(format, args...)))
}
