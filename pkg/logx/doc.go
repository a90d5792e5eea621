// Package logx is isswatch's structured logging, a thin wrapper over zerolog.
//
//   - Console output is human readable (short timestamp, short caller).
//   - File output is JSON, one event per line.
//   - Service.Apply swaps level and sinks at runtime; every Logger handed out
//     by the Service follows the swap.
package logx
