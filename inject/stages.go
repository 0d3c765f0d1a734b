package inject

import "github.com/sirupsen/logrus"

const (
	stageResolveTask         = "resolve task"
	stageAllocateLibraryPath = "allocate library path"
	stageWriteLibraryPath    = "write library path"
	stageAllocateStack       = "allocate stack"
	stageProtectStack        = "protect stack"
	stageAssemblePayload     = "assemble payload"
	stageAllocatePayload     = "allocate payload"
	stageWritePayload        = "write payload"
	stageProtectPayload      = "protect payload"
	stageLaunchThread        = "launch thread"
)

// stageCtl numbers the steps of an injection attempt and logs
// each transition at debug level.
type stageCtl struct {
	logger logrus.FieldLogger
	num    int
	desc   string
}

func (o *stageCtl) next(description string) {
	if o.num > 0 {
		o.logger.Debugf("executed stage %d: [%s]", o.num, o.desc)
	}

	o.num++
	o.desc = description

	o.logger.Debugf("starting stage %d: [%s]", o.num, description)
}

func (o *stageCtl) current() string {
	return o.desc
}

func (o *stageCtl) done() {
	if o.num > 0 {
		o.logger.Debugf("executed stage %d: [%s]", o.num, o.desc)
	}
}
