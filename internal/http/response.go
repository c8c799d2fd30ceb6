package http

type Status string

const (
	// StatusOK is used for health-check responses.
	StatusOK Status = "OK"

	// StatusSuccess indicates an operation completed successfully.
	StatusSuccess Status = "success"

	// StatusError indicates an operation failed.
	StatusError Status = "error"
)

// Response represents the standard API response format.
type Response struct {
	Status Status   `json:"status,omitempty"`
	Value  string   `json:"value,omitempty"`
	Handle uint64   `json:"handle,omitempty"`
	Row    *RowView `json:"row,omitempty"`
	Error  string   `json:"error,omitempty"`
	// Kind names the error class: invalid_handle, invalid_argument, storage_unavailable, decode.
	Kind string `json:"kind,omitempty"`
}

// RowView is a row rendered in the textual value format.
type RowView struct {
	Key     []byte       `json:"key,omitempty"`
	Op      string       `json:"op"`
	Columns []ColumnView `json:"columns"`
}

type ColumnView struct {
	Type  string `json:"type"`
	Null  bool   `json:"null,omitempty"`
	Value string `json:"value,omitempty"`
}

func NewOKResponse(instance string) Response {
	return Response{Status: StatusOK, Value: instance}
}

func NewSuccessResponse() Response {
	return Response{Status: StatusSuccess}
}

func NewValueResponse(value string) Response {
	return Response{Status: StatusSuccess, Value: value}
}

func NewHandleResponse(h uint64) Response {
	return Response{Status: StatusSuccess, Handle: h}
}

func NewRowResponse(row *RowView) Response {
	return Response{Status: StatusSuccess, Row: row}
}

func NewErrorResponse(err string) Response {
	return Response{Status: StatusError, Error: err}
}
