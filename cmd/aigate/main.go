// aigate is the admission gate in front of the garage platform's AI calls.
//
// Every AI call made on behalf of a garage (tenant) asks aigate first. The
// gate applies a per-tenant fixed window (10 calls per minute by default)
// and then the tenant's monthly quota, and answers with an admission or a
// denial reason. Finished calls are reported back so the monthly counter
// and the call log stay current.
//
// Usage:
//
//	# Start the API with the default configuration file
//	aigate run
//
//	# Validate a configuration file and check the stores are reachable
//	aigate check --config /etc/aigate/config.yaml --connect
//
//	# Give a garage 500 AI calls per month, or remove its cap
//	aigate quota set garage-42 500
//	aigate quota clear garage-42
//
//	# Show this month's usage for every tenant
//	aigate usage show
//
//	# Export last week's denials as CSV
//	aigate calls export --outcome rate_limited --from 2025-03-01 --out denials.csv
package main

func main() {
	Execute()
}
