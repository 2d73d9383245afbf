// Package server hosts the Fiber HTTP service and the ordered request
// pipeline. An App owns the attached stages and the factories that build the
// theme-dependent ones, so the active theme can be changed at runtime by
// replacing only the tagged stages. Request ID and panic backstop middleware
// run ahead of every stage; operator routes under /-/ are registered by the
// routes subpackage after the pipeline is assembled.
package server
