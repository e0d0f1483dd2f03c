//go:build !unix

package local

import (
	"errors"
	"os"
	"os/exec"
)

func prepare(*exec.Cmd) {}

func interrupt(p *os.Process) error {
	err := p.Signal(os.Interrupt)
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}

func kill(p *os.Process) error {
	err := p.Kill()
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}
