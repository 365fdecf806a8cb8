package sim

import (
	"context"
	"errors"
	"fmt"
)

// A Control block lets circuit events drive the lifecycle orchestrator. It
// is a singleton materialized on demand under the reserved "_ctrl" name:
// wire any event to it to request a shutdown or an abort from inside the
// circuit.
type Control struct {
	SBlockBase
}

func newControl(c *Circuit) *Control {
	ctl := new(Control)
	ctl.InitSBlock(c, ctl, ctrlName, WithDesc("circuit control"))

	ctl.RegisterEventHandler("shutdown", func(_ Data) (Value, error) {
		ctl.circuit.Abort(context.Canceled)
		return true, nil
	})

	ctl.RegisterEventHandler("abort", func(data Data) (Value, error) {
		ctl.circuit.Abort(controlError(data))
		return true, nil
	})

	return ctl
}

func controlError(data Data) error {
	switch e := data["error"].(type) {
	case error:
		return e
	case string:
		return errors.New(e)
	default:
		return fmt.Errorf("abort requested by %v", data["source"])
	}
}

// InitRegular gives the control block its fixed output.
func (ctl *Control) InitRegular() error {
	return ctl.SetOutput(nil)
}
