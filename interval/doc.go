/*Package interval reads the region files consumed by region liquidation.
  BED files are 0-based and half-open; GFF files are 1-based and closed. A
  Region keeps the coordinates as written in the file and converts on demand.
*/
package interval
