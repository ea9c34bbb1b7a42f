// Package field owns the NLFFF data model: grid dimensions and relaxation
// parameters, the photospheric boundary and its confidence mask, and the
// dense volume field with its centred finite-difference operators.
//
// Layout: voxel (i, j, k) lives at index i + NX*(j + NY*k) in each of the
// three component slices; boundary pixel (i, j) lives at i + NX*j.
//
// No file I/O is allowed in this package; see internal/project.
package field
