package memory

var WriteExclusive = writeExclusive
