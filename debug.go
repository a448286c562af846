package main

// debugLog writes the provided message and key/value pairs when verbose
// logging is enabled.
func debugLog(msg string, kvs ...any) {
	if !logLevel.debugMode {
		return
	}
	logger.Debug(msg, kvs...)
}
