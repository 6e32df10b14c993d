package linker

import (
	"go.uber.org/zap"

	"github.com/wippyai/wasm-scripting/errors"
)

// importError describes a failure resolving one import.
func importError(kind errors.Kind, module, name, detail string, cause error) *errors.Error {
	return errors.New(errors.PhaseLink, kind).
		Name(module+"."+name).
		Detail("%s", detail).
		Cause(cause).
		Build()
}

// fail records err as the Script's load error, unwinds the partial load and
// moves the Script to Failed.
func (s *Script) fail(err *errors.Error, scope *loadScope) LoadState {
	attributed := err.Attribute(s.resource(), s.fileName)
	s.err = attributed
	Logger().Error("script load failed", append(scriptFields(s),
		zap.String("phase", string(err.Phase)),
		zap.String("stage", s.state.String()),
		zap.Error(attributed))...)
	if scope != nil {
		scope.release()
	}
	s.releaseFunctions()
	s.state = StateFailed
	s.notifyLoaded(LoadFailed)
	return LoadFailed
}
