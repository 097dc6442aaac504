/*
Package types holds the statistics structures and small contracts shared
between the cache tiers, the dispatcher, the metrics collector and the loader
facade.

Tier sizes are reported in the tier's native unit. The memory tier is weighted
in kilobytes of decoded pixels; the disk tier counts committed bytes.
*/
package types
