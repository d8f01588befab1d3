package system

import (
	"context"
	"os"
	"os/exec"
	"syscall"
)

// osSpawner implements Spawner using os/exec.
type osSpawner struct{}

func (s *osSpawner) Spawn(ctx context.Context, spec SpawnSpec) (Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	binary, err := exec.LookPath(spec.Name)
	if err != nil {
		return nil, err
	}

	// Not CommandContext: the child must outlive the request that started it.
	cmd := exec.Command(binary, spec.Args...)
	cmd.Stdout = spec.Stdout
	cmd.Stderr = spec.Stderr
	// Own process group, so a terminal ^C reaches us and not the child.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return &osProcess{cmd: cmd}, nil
}

type osProcess struct {
	cmd *exec.Cmd
}

func (p *osProcess) Pid() int {
	return p.cmd.Process.Pid
}

func (p *osProcess) Signal(sig os.Signal) error {
	return p.cmd.Process.Signal(sig)
}

func (p *osProcess) Kill() error {
	return p.cmd.Process.Kill()
}

func (p *osProcess) Wait() error {
	return p.cmd.Wait()
}
