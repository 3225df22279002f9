package ports

import (
	"golang.org/x/crypto/ssh"
)

// SSHDialer abstracts the network dial of an SSH transport so the connector
// can be exercised against in-process servers.
type SSHDialer interface {
	Dial(network, addr string, config *ssh.ClientConfig) (*ssh.Client, error)
}
