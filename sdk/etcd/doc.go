// Package etcd proporciona un cliente etcd con namespace por aplicación y entorno,
// usado como última capa de configuración del bridge.
//
// Estructura de claves: `/APP/ENV/VAR_KEY` (por defecto `/echo-bridge/<ENV>/...`).
//
//	client, err := etcd.New(etcd.WithEnv("production"))
//	if err != nil {
//		return err
//	}
//	defer client.Close()
//
//	retention, _ := client.GetVarDurationWithDefault(ctx, "queue/retention", 5*time.Minute)
//
// Los endpoints se leen de ETCD_ENDPOINTS si no se pasan con WithEndpoints.
package etcd
