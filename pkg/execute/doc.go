/*
Package execute is the Remote Executor. It gives every other package one
way to run a command, move a file, or exec into a container, regardless of
whether the target host is this process or a peer on the private network.

	Dispatcher
	  ├─ host == "local"  → LocalExecutor (os/exec, ContainerdRuntime)
	  └─ host == anything else → SSHExecutor (golang.org/x/crypto/ssh,
	                              one pooled *ssh.Client per host+user)

Transport-level failures (dial errors, session setup, timeouts) are
retried up to 3 times with exponential backoff capped at 8 seconds;
a command that runs and exits non-zero is not a transport failure and is
never retried — that distinction is the caller's to interpret.
*/
package execute
