// Package config loads runtime configuration from environment variables
// using kelseyhightower/envconfig.
//
// Every field has a default, so Load succeeds in a bare environment. Timing
// values (default timeout, poll interval, drain timeout, kill grace) seed the
// Builder and the Deferred Evaluator; control, sandbox and SSH sections
// configure the individual spawn strategies.
package config
