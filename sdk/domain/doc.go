// Package domain contiene tipos de dominio, validaciones y errores del bridge de copiado.
//
// # Responsabilidades
//
// - Comandos y su máquina de estados (PENDING → DELIVERED → ACKED | FAILED | EXPIRED)
// - Cuentas slave, estados operacionales y reportes de heartbeat
// - Resultados de dispatch por cuenta (nunca errores para el pipeline de señales)
// - Sistema de errores con códigos legibles por máquina
// - Interfaces de repositorio (cuentas, copy pairs, historial, journal de comandos)
//
// # Comandos
//
// Un Command se serializa en el wire format que consume el EA:
//
//	{"account":"1001","action":"BUY","symbol":"EURUSD","timestamp":"2026-01-02T10:00:00Z",
//	 "copy_from":"M1","command_id":"0190...","volume":0.1}
//
// Los campos de la señal que el bridge no interpreta viajan en Payload sin cambios.
//
// # Sistema de Errores
//
//	err := domain.NewError(domain.ErrAccountPaused, "account 1001 is paused")
//	err.WithDetail("account", "1001")
//
//	// Wrapping
//	err := domain.WrapError(domain.ErrQueueWriteFailed, "journal put failed", boltErr)
//
//	// Extracción del código a través de fmt.Errorf("...: %w")
//	code := domain.CodeOf(err)
package domain
