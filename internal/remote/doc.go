// Package remote runs commands on cell hosts.
//
// Ownership boundary:
// - the Executor contract: one command, one host, bounded by a timeout
//
// - mapping timeouts and non-zero exits to fault.ErrExecution with no output
//
// Implementations:
// - CommandExecutor shells out to the ssh binary (optionally behind a prefix)
//
// - SSHExecutor speaks SSH in-process through golang.org/x/crypto/ssh
//
// - LocalExecutor runs on this machine and ignores the host
package remote
