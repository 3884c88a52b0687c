package block

// Kind is the execution strategy of an identifier's task.
type Kind int

const (
	// KindUnknown is any lptype value outside the known set. Scheduling a task
	// of this kind is fatal.
	KindUnknown Kind = iota
	// KindRawBlock concatenates the content of every block sharing an identifier.
	KindRawBlock
	// KindOutFile concatenates the outputs of its inputs.
	KindOutFile
	// KindSession feeds its blocks to an interactive process and captures stdout.
	KindSession
	// KindMeta produces no output.
	KindMeta
)

// lptype values as written in documents.
const (
	TypeRawBlock = "raw_block"
	TypeOutFile  = "out_file"
	TypeSession  = "session"
	TypeMeta     = "meta"
)

// ParseKind decodes an lptype value. Unrecognized names map to KindUnknown.
func ParseKind(name string) Kind {
	switch name {
	case TypeRawBlock:
		return KindRawBlock
	case TypeOutFile:
		return KindOutFile
	case TypeSession:
		return KindSession
	case TypeMeta:
		return KindMeta
	default:
		return KindUnknown
	}
}

func (k Kind) String() string {
	switch k {
	case KindRawBlock:
		return TypeRawBlock
	case KindOutFile:
		return TypeOutFile
	case KindSession:
		return TypeSession
	case KindMeta:
		return TypeMeta
	default:
		return "unknown"
	}
}
