package wire

// CommandKind identifies a control-plane command.
type CommandKind uint8

const (
	CommandAdd CommandKind = iota + 1
	CommandDelete
	CommandList
)

func (k CommandKind) String() string {
	switch k {
	case CommandAdd:
		return "add"
	case CommandDelete:
		return "delete"
	case CommandList:
		return "list"
	default:
		return "unknown"
	}
}

// Command is a local control-plane command.
type Command struct {
	Kind CommandKind
	Path string // Add
	Name string // Add (empty: derive from Path), Delete
}

// AddCommand builds an Add command. An empty name is derived from path.
func AddCommand(path, name string) Command {
	return Command{Kind: CommandAdd, Path: path, Name: name}
}

// DeleteCommand builds a Delete command.
func DeleteCommand(name string) Command { return Command{Kind: CommandDelete, Name: name} }

// ListCommand builds a List command.
func ListCommand() Command { return Command{Kind: CommandList} }

type addBody struct {
	Path string `json:"path"`
	Name string `json:"name,omitempty"`
}

type deleteBody struct {
	Name string `json:"name"`
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (c Command) MarshalBinary() ([]byte, error) {
	switch c.Kind {
	case CommandAdd:
		return appendJSON(byte(c.Kind), addBody{Path: c.Path, Name: c.Name})
	case CommandDelete:
		return appendJSON(byte(c.Kind), deleteBody{Name: c.Name})
	case CommandList:
		return []byte{byte(c.Kind)}, nil
	default:
		return nil, protocolErrorf("unknown command kind %d", c.Kind)
	}
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (c *Command) UnmarshalBinary(b []byte) error {
	if len(b) == 0 {
		return protocolErrorf("empty command")
	}
	kind, body := CommandKind(b[0]), b[1:]
	*c = Command{Kind: kind}

	switch kind {
	case CommandAdd:
		var v addBody
		if err := decodeJSON(body, &v); err != nil {
			return err
		}
		if v.Path == "" {
			return protocolErrorf("add command without path")
		}
		c.Path, c.Name = v.Path, v.Name
	case CommandDelete:
		var v deleteBody
		if err := decodeJSON(body, &v); err != nil {
			return err
		}
		c.Name = v.Name
	case CommandList:
		if len(body) != 0 {
			return protocolErrorf("list command carries %d unexpected bytes", len(body))
		}
	default:
		return protocolErrorf("unknown command kind %d", kind)
	}
	return nil
}

// ReplyKind identifies a control-plane reply.
type ReplyKind uint8

const (
	ReplyOk ReplyKind = iota + 1
	ReplyErr
	ReplyList
)

// Reply is the daemon's answer to a Command.
type Reply struct {
	Kind  ReplyKind
	Text  string            // Ok, Err
	Files map[string]string // List: name -> path
}

// OkReply builds an Ok reply.
func OkReply(text string) Reply { return Reply{Kind: ReplyOk, Text: text} }

// ErrReply builds an Err reply.
func ErrReply(text string) Reply { return Reply{Kind: ReplyErr, Text: text} }

// ListReply builds a List reply.
func ListReply(files map[string]string) Reply {
	if files == nil {
		files = map[string]string{}
	}
	return Reply{Kind: ReplyList, Files: files}
}

type textBody struct {
	Text string `json:"text"`
}

type filesBody struct {
	Files map[string]string `json:"files"`
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (r Reply) MarshalBinary() ([]byte, error) {
	switch r.Kind {
	case ReplyOk, ReplyErr:
		return appendJSON(byte(r.Kind), textBody{Text: r.Text})
	case ReplyList:
		return appendJSON(byte(r.Kind), filesBody{Files: r.Files})
	default:
		return nil, protocolErrorf("unknown reply kind %d", r.Kind)
	}
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (r *Reply) UnmarshalBinary(b []byte) error {
	if len(b) == 0 {
		return protocolErrorf("empty reply")
	}
	kind, body := ReplyKind(b[0]), b[1:]
	*r = Reply{Kind: kind}

	switch kind {
	case ReplyOk, ReplyErr:
		var v textBody
		if err := decodeJSON(body, &v); err != nil {
			return err
		}
		r.Text = v.Text
	case ReplyList:
		var v filesBody
		if err := decodeJSON(body, &v); err != nil {
			return err
		}
		r.Files = v.Files
		if r.Files == nil {
			r.Files = map[string]string{}
		}
	default:
		return protocolErrorf("unknown reply kind %d", kind)
	}
	return nil
}
