// Package config loads the YAML configuration shared by the bunnyctl CLI
// and the fake broker.
//
// Loading order:
//  1. Default values
//  2. YAML file values
//  3. Environment variables (BUNNY_HOST, BUNNY_PORT, BUNNY_USERNAME,
//     BUNNY_PASSWORD, BUNNY_LOG_LEVEL, BUNNY_METRICS_ADDRESS,
//     BUNNY_BROKER_ADDRESS, BUNNY_BROKER_USERS)
package config
