package security

// Fault labels recognized by the injector.
const (
	FaultPermission = "permission"
	FaultIO         = "io"
	FaultSyntax     = "syntax"
)

// Fault error codes and the HTTP-style statuses they map to.
const (
	CodePermissionDenied = "permission_denied"
	CodeIOError          = "io_error"
	CodeSyntaxError      = "syntax_error"
)

// Fault is a simulated failure to surface instead of running an operation.
type Fault struct {
	Code   string
	Status int
}

// Injector decides whether a request's fault label triggers a simulated
// failure. Implementations must ignore labels they do not recognize.
type Injector interface {
	Inject(label string) *Fault
}

// LabelInjector maps the well-known fault labels to their faults. Unknown
// labels are ignored so future labels stay backward compatible.
type LabelInjector struct{}

// NewLabelInjector returns the standard label-driven injector.
func NewLabelInjector() *LabelInjector {
	return &LabelInjector{}
}

// Inject returns the fault for a recognized label, or nil.
func (LabelInjector) Inject(label string) *Fault {
	switch label {
	case FaultPermission:
		return &Fault{Code: CodePermissionDenied, Status: 403}
	case FaultIO:
		return &Fault{Code: CodeIOError, Status: 500}
	case FaultSyntax:
		return &Fault{Code: CodeSyntaxError, Status: 400}
	default:
		return nil
	}
}

// NopInjector never injects. Used when fault simulation is disabled.
type NopInjector struct{}

// Inject always returns nil.
func (NopInjector) Inject(string) *Fault { return nil }

var (
	_ Injector = (*LabelInjector)(nil)
	_ Injector = (*NopInjector)(nil)
)
