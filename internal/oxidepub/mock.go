package oxidepub

import "context"

// MockClient is a mock implementation of Client.
type MockClient struct {
	FindImageFunc        func(ctx context.Context, project, name string) (string, bool, error)
	CreateImportDiskFunc func(ctx context.Context, project, name, description string, size int64) error
	StartBulkImportFunc  func(ctx context.Context, project, disk string) error
	WriteBulkImportFunc  func(ctx context.Context, project, disk string, offset int64, base64Data string) error
	StopBulkImportFunc   func(ctx context.Context, project, disk string) error
	FinalizeImportFunc   func(ctx context.Context, project, disk, snapshot string) error
	SnapshotIDFunc       func(ctx context.Context, project, name string) (string, error)
	CreateImageFunc      func(ctx context.Context, project, name, description, snapshotID string) (string, error)
	LaunchInstanceFunc   func(ctx context.Context, project string, spec InstanceSpec) (string, error)
}

func (m *MockClient) FindImage(ctx context.Context, project, name string) (string, bool, error) {
	return m.FindImageFunc(ctx, project, name)
}

func (m *MockClient) CreateImportDisk(ctx context.Context, project, name, description string, size int64) error {
	return m.CreateImportDiskFunc(ctx, project, name, description, size)
}

func (m *MockClient) StartBulkImport(ctx context.Context, project, disk string) error {
	return m.StartBulkImportFunc(ctx, project, disk)
}

func (m *MockClient) WriteBulkImport(ctx context.Context, project, disk string, offset int64, base64Data string) error {
	return m.WriteBulkImportFunc(ctx, project, disk, offset, base64Data)
}

func (m *MockClient) StopBulkImport(ctx context.Context, project, disk string) error {
	return m.StopBulkImportFunc(ctx, project, disk)
}

func (m *MockClient) FinalizeImport(ctx context.Context, project, disk, snapshot string) error {
	return m.FinalizeImportFunc(ctx, project, disk, snapshot)
}

func (m *MockClient) SnapshotID(ctx context.Context, project, name string) (string, error) {
	return m.SnapshotIDFunc(ctx, project, name)
}

func (m *MockClient) CreateImage(ctx context.Context, project, name, description, snapshotID string) (string, error) {
	return m.CreateImageFunc(ctx, project, name, description, snapshotID)
}

func (m *MockClient) LaunchInstance(ctx context.Context, project string, spec InstanceSpec) (string, error) {
	return m.LaunchInstanceFunc(ctx, project, spec)
}
