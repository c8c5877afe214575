//go:build !linux && !darwin && !freebsd

package decoder

import (
	"os"
	"os/exec"
)

func setProcessGroup(cmd *exec.Cmd) {}

func killProcessGroup(p *os.Process) error {
	err := p.Kill()
	if err == os.ErrProcessDone {
		return nil
	}
	return err
}
