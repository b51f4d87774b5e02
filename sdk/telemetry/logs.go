package telemetry

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
)

// Los métodos de log son fire-and-forget: nunca fallan ni bloquean al llamador.
// Un Client nil o sin logger descarta el mensaje.

// Info registra un mensaje informativo
func (c *Client) Info(ctx context.Context, msg string, attrs ...attribute.KeyValue) {
	if c == nil || c.logger == nil {
		return
	}

	args := c.convertAttrsToSlogArgs(ctx, attrs)
	c.logger.InfoContext(safeContext(ctx), msg, args...)
}

// Error registra un mensaje de error
func (c *Client) Error(ctx context.Context, msg string, err error, attrs ...attribute.KeyValue) {
	if c == nil || c.logger == nil {
		return
	}

	args := c.convertAttrsToSlogArgs(ctx, attrs)
	if err != nil {
		args = append(args, slog.String("error", err.Error()))
	}
	c.logger.ErrorContext(safeContext(ctx), msg, args...)
}

// Warn registra un mensaje de advertencia
func (c *Client) Warn(ctx context.Context, msg string, attrs ...attribute.KeyValue) {
	if c == nil || c.logger == nil {
		return
	}

	args := c.convertAttrsToSlogArgs(ctx, attrs)
	c.logger.WarnContext(safeContext(ctx), msg, args...)
}

// Debug registra un mensaje de debug
func (c *Client) Debug(ctx context.Context, msg string, attrs ...attribute.KeyValue) {
	if c == nil || c.logger == nil {
		return
	}

	args := c.convertAttrsToSlogArgs(ctx, attrs)
	c.logger.DebugContext(safeContext(ctx), msg, args...)
}

// Logger expone el slog.Logger subyacente (nil si los logs están deshabilitados).
func (c *Client) Logger() *slog.Logger {
	if c == nil {
		return nil
	}
	return c.logger
}

// convertAttrsToSlogArgs convierte atributos OTEL (contexto + explícitos) a argumentos slog
func (c *Client) convertAttrsToSlogArgs(ctx context.Context, attrs []attribute.KeyValue) []any {
	ctxAttrs := ExtractAttributes(ctx)
	args := make([]any, 0, (len(ctxAttrs)+len(attrs))*2)
	for _, attr := range ctxAttrs {
		args = append(args, string(attr.Key), attr.Value.AsInterface())
	}
	for _, attr := range attrs {
		args = append(args, string(attr.Key), attr.Value.AsInterface())
	}
	return args
}

func safeContext(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
