// Package cli implements the meshctl command-line interface.
//
// Each Cobra command parses its flags, opens an App and hands off to a
// function taking (ctx, writer, app, options) so the interactive menu can
// run the same code paths.
//
// # Command Structure
//
//	meshctl                        - Interactive menu (on a terminal)
//	meshctl status [--watch]       - Service state and backup summary
//	meshctl service start|stop|restart <name>
//	meshctl backup create|list|prune|restore|delete|export|import|unlock
//	meshctl doctor [--fix]         - Diagnose and repair the environment
//	meshctl init                   - Write the default config file
//	meshctl version | completion
//
// # App
//
// openApp loads the config and builds the components in dependency
// order: the rotating log file, the process-wide status cache, the
// command runner, then the backup manager. Service controllers are built
// on first use. Close releases the log and the cache.
//
// # Confirmation
//
// Destructive operations ask on a terminal. --yes answers for the user;
// without a terminal and without --yes the operation is refused with a
// not-confirmed error. Importing an archive that has no recognized
// configuration directory is a separate override that --yes does not
// grant: it needs --allow-unexpected or an answer at the prompt.
//
// # Exit Status
//
// 0 on success, 3 for a rejected archive, 4 when a service did not reach
// the requested state in time, 5 when the backup store is locked, 130
// when interrupted, and 1 otherwise.
package cli
