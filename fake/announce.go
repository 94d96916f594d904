package fake

import (
	"fmt"
	"net"
)

// Announce answers UDP discovery probes on a loopback port with
// "crosspoint;<port>" and returns the port it listens on.
func (d *Device) Announce() (int, error) {
	pc, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		return 0, err
	}
	d.udp = pc
	reply := []byte(fmt.Sprintf("crosspoint;%d", d.Port()))
	go func() {
		buf := make([]byte, 64)
		for {
			n, src, err := pc.ReadFromUDP(buf)
			if err != nil {
				return
			}
			if string(buf[:n]) == "hello" {
				pc.WriteToUDP(reply, src)
			}
		}
	}()
	return pc.LocalAddr().(*net.UDPAddr).Port, nil
}
