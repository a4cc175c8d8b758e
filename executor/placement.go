package executor

// pin binds the calling thread to the given logical cpu and returns the
// NUMA node the cpu belongs to. Platforms without affinity support report
// node -1 and no error is treated as fatal by the caller: the pool runs
// unpinned, just without locality.
