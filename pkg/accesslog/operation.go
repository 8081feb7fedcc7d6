package accesslog

// Operation names of the object retrieval requests
const (
	OperationGetObject  = "REST.GET.OBJECT"
	OperationHeadObject = "REST.HEAD.OBJECT"
)

// OperationKind is the class of request an operation name belongs to
type OperationKind int

// Operation kinds
const (
	OperationOther OperationKind = iota
	OperationGet
	OperationHead
)

// Classify maps an operation name to its kind
func Classify(operation string) OperationKind {
	switch operation {
	case OperationGetObject:
		return OperationGet
	case OperationHeadObject:
		return OperationHead
	default:
		return OperationOther
	}
}

// IsRetrieval reports whether the kind reads an object
func (k OperationKind) IsRetrieval() bool {
	return k == OperationGet || k == OperationHead
}

func (k OperationKind) String() string {
	switch k {
	case OperationGet:
		return "GET"
	case OperationHead:
		return "HEAD"
	default:
		return "OTHER"
	}
}
