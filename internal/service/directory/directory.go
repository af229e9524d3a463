package directory

import (
	"context"
	"sync"

	"github.com/vladislavdragonenkov/marketplace-checkout/internal/domain"
)

// InMemoryAddressDirectory — адресная книга покупателей в памяти.
// CRUD адресов живёт в отдельном сервисе; ядру он виден только
// через ResolveAddress, поэтому локальная реализация хранит
// денормализованные записи и обслуживает тесты и dev-окружение.
type InMemoryAddressDirectory struct {
	mu        sync.RWMutex
	addresses map[string]domain.Address
}

// NewInMemoryAddressDirectory создаёт пустой справочник адресов.
func NewInMemoryAddressDirectory() *InMemoryAddressDirectory {
	return &InMemoryAddressDirectory{addresses: make(map[string]domain.Address)}
}

// PutAddress добавляет или обновляет запись адресной книги.
func (d *InMemoryAddressDirectory) PutAddress(addr domain.Address) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.addresses[addr.ID] = addr
}

// ResolveAddress возвращает адрес покупателя.
// Чужой или отсутствующий адрес — ErrAddressUnresolved, без уточнения
// причины: вызывающая сторона не должна различать "нет" и "не твой".
func (d *InMemoryAddressDirectory) ResolveAddress(_ context.Context, buyerID, addressID string) (domain.Address, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	addr, ok := d.addresses[addressID]
	if !ok || addr.BuyerID != buyerID {
		return domain.Address{}, domain.ErrAddressUnresolved
	}
	return addr, nil
}

// InMemoryProductDirectory — каталог товаров в памяти.
type InMemoryProductDirectory struct {
	mu       sync.RWMutex
	products map[string]domain.ProductInfo
}

// NewInMemoryProductDirectory создаёт пустой каталог.
func NewInMemoryProductDirectory() *InMemoryProductDirectory {
	return &InMemoryProductDirectory{products: make(map[string]domain.ProductInfo)}
}

// PutProduct добавляет или обновляет товар в каталоге.
func (d *InMemoryProductDirectory) PutProduct(p domain.ProductInfo) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.products[p.ProductID] = p
}

// ResolveProduct возвращает сведения о товаре или ErrProductUnresolved.
func (d *InMemoryProductDirectory) ResolveProduct(_ context.Context, productID string) (domain.ProductInfo, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	p, ok := d.products[productID]
	if !ok {
		return domain.ProductInfo{}, domain.ErrProductUnresolved
	}
	return p, nil
}

var (
	_ domain.AddressDirectory = (*InMemoryAddressDirectory)(nil)
	_ domain.ProductDirectory = (*InMemoryProductDirectory)(nil)
)
