package mvc

import (
	"context"
)

// IBaseDao 通用数据访问接口，证书中心的记录不做物理删除，因此不提供删除方法
type IBaseDao[T any] interface {
	// Create 创建记录
	Create(ctx context.Context, entity *T) error
	// UpdateById 根据ID更新非零字段
	UpdateById(ctx context.Context, id interface{}, entity *T) (int64, error)
	// UpdateColumnsById 根据ID更新指定列，零值也会写入
	UpdateColumnsById(ctx context.Context, id interface{}, columns map[string]interface{}) (int64, error)
	// FindById 根据ID查询记录
	FindById(ctx context.Context, id interface{}) (*T, error)
	// FindOneByMap 根据多个条件查询单条记录
	FindOneByMap(ctx context.Context, conditions map[string]interface{}) (*T, error)
	// FindByMap 根据多个条件查询记录
	FindByMap(ctx context.Context, conditions map[string]interface{}) ([]*T, error)
	// FindPageByMap 分页查询
	FindPageByMap(ctx context.Context, page *Page, condition map[string]interface{}) ([]*T, int64, error)
	// CountByMap 根据多个条件统计记录数
	CountByMap(ctx context.Context, conditions map[string]interface{}) (int64, error)
	// ExistsByMap 根据多个条件检查记录是否存在
	ExistsByMap(ctx context.Context, conditions map[string]interface{}) (bool, error)
	// WithTx 使用事务创建临时的IBaseDao实例
	WithTx(tx interface{}) IBaseDao[T]
}
