package client

import "sync"

var (
	globalClient     *Client
	globalClientOnce sync.Once
)

// GlobalClient returns the process-wide Client, lazily initialized with a
// default cache on first use. Use ConfigureGlobalClient to customize
// before that first use.
func GlobalClient() *Client {
	globalClientOnce.Do(func() {
		globalClient = New(nil)
	})
	return globalClient
}

// ConfigureGlobalClient installs c as the process-wide client. Must be
// called before GlobalClient's first use; subsequent calls are no-ops.
func ConfigureGlobalClient(c *Client) {
	globalClientOnce.Do(func() {
		globalClient = c
	})
}
