package field

// Curl returns the centred-difference curl (unit spacing) at an interior
// voxel. Callers must ensure Interior(i, j, k).
func (v *Volume) Curl(i, j, k int) Vec3 {
	n := v.Index(i, j, k)
	sy, sz := v.NX, v.NX*v.NY
	dyBz := 0.5 * (v.Z[n+sy] - v.Z[n-sy])
	dzBy := 0.5 * (v.Y[n+sz] - v.Y[n-sz])
	dzBx := 0.5 * (v.X[n+sz] - v.X[n-sz])
	dxBz := 0.5 * (v.Z[n+1] - v.Z[n-1])
	dxBy := 0.5 * (v.Y[n+1] - v.Y[n-1])
	dyBx := 0.5 * (v.X[n+sy] - v.X[n-sy])
	return Vec3{X: dyBz - dzBy, Y: dzBx - dxBz, Z: dxBy - dyBx}
}

// Divergence returns the centred-difference divergence (unit spacing) at an
// interior voxel.
func (v *Volume) Divergence(i, j, k int) float64 {
	n := v.Index(i, j, k)
	sy, sz := v.NX, v.NX*v.NY
	return 0.5 * ((v.X[n+1] - v.X[n-1]) + (v.Y[n+sy] - v.Y[n-sy]) + (v.Z[n+sz] - v.Z[n-sz]))
}
