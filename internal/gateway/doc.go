/*
Package gateway implements the authenticating reverse proxy in front of the
lending service.

Every request that does not hit a /gateway/* route is authenticated and then
relayed to the configured upstream:

  - paths matching a public glob (health, login, register by default) skip
    authentication
  - other paths need "Authorization: Bearer <token>", an HS256 JWT with an
    unexpired exp claim; failures are answered with 401 and never reach
    upstream
  - the relay streams both bodies in 32 KiB chunks, flushing each one, and
    drops hop-by-hop headers in both directions
  - an upstream that cannot be reached, or stays silent longer than the
    upstream timeout, yields 503

Local routes:

	GET /gateway/health   liveness of the gateway itself
	GET /gateway/ready    probes upstream health through the upstream breaker
	GET /gateway/metrics  Prometheus metrics
*/
package gateway
