// Package schema describes how to construct an application: executable,
// arguments, environment, system properties, working directory, stream
// redirection, default timeout and lifecycle interceptors.
//
// Schemas are built fluently or loaded from YAML, TOML or JSON files:
//
//	executable: ./server
//	args: [--port, "8080"]
//	env: {MODE: test}
//	properties: {token: abc}
//	searchPaths: {PLUGIN_PATH: ["plugins/**/*.so"]}
//	timeout: 30s
package schema
