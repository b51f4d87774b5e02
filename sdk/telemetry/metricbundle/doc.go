// Package metricbundle agrupa instrumentos OpenTelemetry por dominio.
//
// Cada bundle crea sus instrumentos una sola vez a partir de un metric.Meter y expone
// helpers Record* que aceptan atributos adicionales.
package metricbundle
