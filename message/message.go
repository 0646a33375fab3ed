// Package message implements the command channel vocabulary and its framing.
//
// Every message is a small JSON object with exactly one intent key taken from the
// protocol vocabulary (cd, ls, get, put, mode, port, ...). On the wire each payload
// is preceded by a fixed-width header holding its length as a left-justified decimal
// number:
//
//	[10-byte ASCII length][payload]
//
// The same framing carries file payloads on the data channel.
package message

// Kind identifies the concrete type behind a Message.
type Kind int

const (
	KindAuth Kind = iota + 1
	KindStatus
	KindMode
	KindPort
	KindKey
	KindIV
	KindCd
	KindLs
	KindGet
	KindPut
	KindPutReady
	KindPutReply
	KindExit
	KindError
)

var kindNames = map[Kind]string{
	KindAuth:     "auth",
	KindStatus:   "status",
	KindMode:     "mode",
	KindPort:     "port",
	KindKey:      "key",
	KindIV:       "iv",
	KindCd:       "cd",
	KindLs:       "ls",
	KindGet:      "get",
	KindPut:      "put",
	KindPutReady: "put-ready",
	KindPutReply: "put-reply",
	KindExit:     "exit",
	KindError:    "ERR",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// Values that appear inside messages.
const (
	StatusOK      = "OK"
	StatusInvalid = "INV"
	Failed        = "ERR"
	Ready         = "ready"
	ModePassive   = "p"
	ModeActive    = "a"
)

// Message is one command channel message. The set of implementations is closed.
type Message interface {
	Kind() Kind
	isMessage()
}

// Auth is the credential exchange {name, pass}.
type Auth struct {
	Name string
	Pass string // hex digest, never the clear password
}

// Status answers Auth with OK or INV.
type Status struct {
	Status string
}

// Mode carries the negotiation cue (ready) from the server and the polarity (p or a)
// chosen by the client. Encrypted is only meaningful on the ready cue.
type Mode struct {
	Mode      string
	Encrypted bool
}

// Port advertises a listening data channel port.
type Port struct {
	Port int
}

// Key carries the data channel key.
type Key struct {
	Key []byte
}

// IV carries the data channel IV.
type IV struct {
	IV []byte
}

// Cd is both the request (path) and the reply (new path or ERR).
type Cd struct {
	Path string
}

// Ls is both the request (arguments) and the reply (tree text or ERR).
type Ls struct {
	Arg string
}

// Get is the request (remote path), the reply (OK or ERR) and the client's ready ack.
type Get struct {
	Arg string
}

// Put requests an upload into the current remote directory.
type Put struct {
	Path     string
	TextMode bool
}

// PutReady is the server cue that the destination file is open.
type PutReady struct{}

// PutReply answers Put with [OK|ERR, info].
type PutReply struct {
	Status string
	Info   string
}

// Exit ends the session.
type Exit struct{}

// Error is the ERR message. Its presence wins over any other key.
type Error struct {
	Reason string
}

func (Auth) Kind() Kind     { return KindAuth }
func (Status) Kind() Kind   { return KindStatus }
func (Mode) Kind() Kind     { return KindMode }
func (Port) Kind() Kind     { return KindPort }
func (Key) Kind() Kind      { return KindKey }
func (IV) Kind() Kind       { return KindIV }
func (Cd) Kind() Kind       { return KindCd }
func (Ls) Kind() Kind       { return KindLs }
func (Get) Kind() Kind      { return KindGet }
func (Put) Kind() Kind      { return KindPut }
func (PutReady) Kind() Kind { return KindPutReady }
func (PutReply) Kind() Kind { return KindPutReply }
func (Exit) Kind() Kind     { return KindExit }
func (Error) Kind() Kind    { return KindError }

func (Auth) isMessage()     {}
func (Status) isMessage()   {}
func (Mode) isMessage()     {}
func (Port) isMessage()     {}
func (Key) isMessage()      {}
func (IV) isMessage()       {}
func (Cd) isMessage()       {}
func (Ls) isMessage()       {}
func (Get) isMessage()      {}
func (Put) isMessage()      {}
func (PutReady) isMessage() {}
func (PutReply) isMessage() {}
func (Exit) isMessage()     {}
func (Error) isMessage()    {}

// Failed reports whether the reply carries ERR.
func (m Cd) Failed() bool { return m.Path == Failed }

// Failed reports whether the reply carries ERR.
func (m Ls) Failed() bool { return m.Arg == Failed }

// Failed reports whether the reply carries anything but OK.
func (m Get) Failed() bool { return m.Arg != StatusOK }

// OK reports whether the upload was accepted.
func (m PutReply) OK() bool { return m.Status == StatusOK }
