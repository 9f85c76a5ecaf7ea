// Command spafwctl is the admin CLI for spafwd: it talks to the daemon's
// ConnectRPC control plane to inspect loaded policy, the replay cache, and
// recent admission decisions.
package main

import "github.com/nullbind/spafwd/cmd/spafwctl/commands"

func main() {
	commands.Execute()
}
