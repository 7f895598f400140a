// Package sysinfo collects the local host facts the CLI needs to pick a
// default advertise address and to log at startup. Adapted from
// master/internal/system/system.go's syscall/runtime/net collection,
// retargeted from master-specific fields to a neutral self-description
// used by both cmd/master and cmd/worker (grounds original_source/dpe's
// GetInterfaceAddress self-discovery).
package sysinfo

import (
	"fmt"
	"net"
	"os"
	"runtime"
	"syscall"
)

type Info struct {
	Hostname    string
	IPAddresses []string
	OS          string
	Arch        string
	NumCPU      int
	PID         int
	UID         int
	GID         int
}

func Collect() (*Info, error) {
	info := &Info{
		OS:     runtime.GOOS,
		Arch:   runtime.GOARCH,
		NumCPU: runtime.NumCPU(),
		PID:    os.Getpid(),
		UID:    syscall.Getuid(),
		GID:    syscall.Getgid(),
	}

	hostname, err := os.Hostname()
	if err != nil {
		return nil, fmt.Errorf("sysinfo: hostname: %w", err)
	}
	info.Hostname = hostname

	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return info, fmt.Errorf("sysinfo: interface addresses: %w", err)
	}
	for _, addr := range addrs {
		ipnet, ok := addr.(*net.IPNet)
		if !ok || ipnet.IP.IsLoopback() {
			continue
		}
		if ipnet.IP.To4() != nil {
			info.IPAddresses = append(info.IPAddresses, ipnet.IP.String())
		}
	}
	return info, nil
}

// PreferredAddress returns the best non-loopback IPv4 address, or
// "127.0.0.1" if none was discovered.
func (i *Info) PreferredAddress() string {
	if len(i.IPAddresses) > 0 {
		return i.IPAddresses[0]
	}
	return "127.0.0.1"
}
