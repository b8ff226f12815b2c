package x11

import (
	"fmt"

	"github.com/BurntSushi/xgb/dpms"
)

// DPMS levels, most to least awake.
const (
	DPMSOn      = dpms.DPMSModeOn
	DPMSStandby = dpms.DPMSModeStandby
	DPMSSuspend = dpms.DPMSModeSuspend
	DPMSOff     = dpms.DPMSModeOff
)

// ForceDPMS enables DPMS if needed and forces the monitor into level.
func (c *Connection) ForceDPMS(level uint16) error {
	conn := c.XUtil.Conn()
	if err := dpms.Init(conn); err != nil {
		return fmt.Errorf("dpms init failed: %w", err)
	}
	if err := dpms.Enable(conn).Check(); err != nil {
		return fmt.Errorf("dpms enable: %w", err)
	}
	if err := dpms.ForceLevel(conn, level).Check(); err != nil {
		return fmt.Errorf("dpms force level %d: %w", level, err)
	}
	return nil
}
