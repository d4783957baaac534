// Package commands defines the mdocholder CLI and wires dependencies for subcommands.
//
// Commands
//
//   - init           Create the data directory and seed the sample document
//   - documents      List stored documents
//   - trust list     List reader trust points
//   - trust add      Trust a reader root certificate (PEM)
//   - present        Show an engagement QR code and serve one reader
//
// # Implementation
//
// The root command loads the YAML configuration, applies flag overrides and
// builds the dependency graph (stores, transports, services) before any
// subcommand runs. Subcommands await the app's one-time initialisation
// before touching documents or trust points.
package commands
